package extract

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

// maxRenderDepth bounds URL expression reconstruction.
const maxRenderDepth = 16

// routeMethods maps route decorator attributes to HTTP methods.
var routeMethods = map[string]string{
	"get":     "GET",
	"post":    "POST",
	"put":     "PUT",
	"patch":   "PATCH",
	"delete":  "DELETE",
	"head":    "HEAD",
	"options": "OPTIONS",
}

// scope is the lexical context of a node on the traversal stack.
type scope struct {
	class        string // innermost enclosing class
	classSkipped bool
	inFunc       bool   // inside any function body
	fn           string // graph name of the enclosing function, "" when none is emitted
	fnKind       model.NodeKind
	skipCalls    bool
}

type frame struct {
	node  *sitter.Node
	scope scope
	decos []*sitter.Node
}

// fileVisitor extracts one Python file.
type fileVisitor struct {
	ex      *Extractor
	service string
	path    string
	src     []byte
	lines   []string
	consts  map[string]string
	classes map[string]bool
	matcher *Matcher
	order   map[string]int
	result  *FileResult
}

// parsePython parses src and returns the tree, or a ParseError when the
// source contains syntax errors.
func parsePython(ctx context.Context, path string, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("%w: %v", ErrParseFailed, err)}
	}
	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return nil, &ParseError{Path: path, Err: fmt.Errorf("%w: empty syntax tree", ErrParseFailed)}
	}
	if root.HasError() {
		line := firstErrorLine(root)
		tree.Close()
		return nil, &ParseError{Path: path, Line: line, Err: fmt.Errorf("%w: syntax error", ErrParseFailed)}
	}
	return tree, nil
}

// firstErrorLine returns the 1-based line of the first ERROR or MISSING node.
func firstErrorLine(root *sitter.Node) int {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsError() || n.IsMissing() {
			return int(n.StartPoint().Row) + 1
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			if c := n.Child(i); c != nil && (c.HasError() || c.IsMissing()) {
				stack = append(stack, c)
			}
		}
	}
	return 0
}

func (v *fileVisitor) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(v.src)
}

// prepass captures module-level constants, the service base-URL table and
// the names of classes defined in the file.
func (v *fileVisitor) prepass(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "class_definition":
			v.classes[v.text(child.ChildByFieldName("name"))] = true
		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil && def.Type() == "class_definition" {
				v.classes[v.text(def.ChildByFieldName("name"))] = true
			}
		case "expression_statement":
			if child.NamedChildCount() == 0 {
				continue
			}
			assign := child.NamedChild(0)
			if assign.Type() != "assignment" {
				continue
			}
			left := assign.ChildByFieldName("left")
			right := assign.ChildByFieldName("right")
			if left == nil || right == nil || left.Type() != "identifier" {
				continue
			}
			name := v.text(left)
			value, ok := v.constValue(right)
			if !ok {
				continue
			}
			v.consts[name] = value
			if v.ex.serviceConsts.Match(name) {
				if base, _ := SplitBaseURL(value); base != "" {
					v.result.BaseURLs[base] = ServiceKeyFromConst(name)
				}
			}
		}
	}
}

// constValue evaluates the right side of a module-level assignment to a
// literal, following os.getenv/os.environ.get defaults.
func (v *fileVisitor) constValue(n *sitter.Node) (string, bool) {
	if n.Type() == "call" {
		if !isEnvLookup(v.text(n.ChildByFieldName("function"))) {
			return "", false
		}
		args := positionalArgs(n.ChildByFieldName("arguments"))
		if len(args) < 2 {
			return "", false
		}
		return v.literal(args[1])
	}
	return v.literal(n)
}

// literal renders n using constant values only; placeholders are not produced.
func (v *fileVisitor) literal(n *sitter.Node) (string, bool) {
	switch n.Type() {
	case "string":
		s, isF := stringContent(v.text(n))
		if isF && strings.Contains(s, "{") {
			return "", false
		}
		return s, true
	case "concatenated_string", "binary_operator", "identifier", "parenthesized_expression":
		s, ok := v.render(n, 0)
		if !ok || strings.Contains(s, "{") {
			return "", false
		}
		return s, true
	}
	return "", false
}

func isEnvLookup(fn string) bool {
	switch fn {
	case "os.getenv", "getenv", "os.environ.get", "environ.get":
		return true
	}
	return false
}

// positionalArgs returns the positional argument nodes of an argument_list.
func positionalArgs(args *sitter.Node) []*sitter.Node {
	if args == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		a := args.NamedChild(i)
		switch a.Type() {
		case "keyword_argument", "comment", "list_splat", "dictionary_splat":
			continue
		}
		out = append(out, a)
	}
	return out
}

// keywordArg returns the value of the named keyword argument.
func (v *fileVisitor) keywordArg(args *sitter.Node, name string) *sitter.Node {
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		a := args.NamedChild(i)
		if a.Type() == "keyword_argument" && v.text(a.ChildByFieldName("name")) == name {
			return a.ChildByFieldName("value")
		}
	}
	return nil
}

// stringContent strips the prefix and quotes of a Python string literal and
// reports whether it is an f-string.
func stringContent(raw string) (string, bool) {
	i := 0
	for i < len(raw) && strings.ContainsRune("rRbBuUfF", rune(raw[i])) {
		i++
	}
	isF := strings.ContainsAny(raw[:i], "fF")
	body := raw[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(body, q) && strings.HasSuffix(body, q) && len(body) >= 2*len(q) {
			return body[len(q) : len(body)-len(q)], isF
		}
	}
	return body, isF
}

// render reconstructs the textual URL pattern of an expression. Service URL
// constants become {NAME} placeholders, other constants are substituted by
// value, and unresolvable f-string interpolations stay as {expr}.
func (v *fileVisitor) render(n *sitter.Node, depth int) (string, bool) {
	if n == nil || depth > maxRenderDepth {
		return "", false
	}
	switch n.Type() {
	case "string":
		s, isF := stringContent(v.text(n))
		if isF {
			return v.renderInterpolations(s), true
		}
		return s, true

	case "concatenated_string":
		var b strings.Builder
		for i := 0; i < int(n.NamedChildCount()); i++ {
			part, ok := v.render(n.NamedChild(i), depth+1)
			if !ok {
				return "", false
			}
			b.WriteString(part)
		}
		return b.String(), true

	case "binary_operator":
		if v.text(n.ChildByFieldName("operator")) != "+" {
			return "", false
		}
		left, ok := v.render(n.ChildByFieldName("left"), depth+1)
		if !ok {
			return "", false
		}
		right, ok := v.render(n.ChildByFieldName("right"), depth+1)
		if !ok {
			return "", false
		}
		return left + right, true

	case "parenthesized_expression":
		if n.NamedChildCount() == 0 {
			return "", false
		}
		return v.render(n.NamedChild(0), depth+1)

	case "identifier":
		return v.lookupName(v.text(n))

	case "attribute":
		return v.lookupName(v.text(n.ChildByFieldName("attribute")))

	case "call":
		if !isEnvLookup(v.text(n.ChildByFieldName("function"))) {
			return "", false
		}
		args := positionalArgs(n.ChildByFieldName("arguments"))
		if len(args) == 0 {
			return "", false
		}
		if name, ok := v.literal(args[0]); ok && v.ex.serviceConsts.Match(name) {
			return "{" + name + "}", true
		}
		if len(args) > 1 {
			return v.literal(args[1])
		}
	}
	return "", false
}

func (v *fileVisitor) lookupName(name string) (string, bool) {
	if v.ex.serviceConsts.Match(name) {
		return "{" + name + "}", true
	}
	if val, ok := v.consts[name]; ok {
		return val, true
	}
	return "", false
}

// renderInterpolations rewrites the {expr} parts of an f-string body.
func (v *fileVisitor) renderInterpolations(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '{' && i+1 < len(s) && s[i+1] == '{' {
			b.WriteByte('{')
			i++
			continue
		}
		if c == '}' && i+1 < len(s) && s[i+1] == '}' {
			b.WriteByte('}')
			i++
			continue
		}
		if c != '{' {
			b.WriteByte(c)
			continue
		}
		end := strings.IndexByte(s[i:], '}')
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		expr := strings.TrimSpace(s[i+1 : i+end])
		if j := strings.IndexAny(expr, "!:"); j >= 0 {
			expr = strings.TrimSpace(expr[:j])
		}
		name := expr
		if j := strings.LastIndexByte(name, '.'); j >= 0 {
			name = name[j+1:]
		}
		if val, ok := v.lookupName(name); ok {
			b.WriteString(val)
		} else {
			b.WriteString("{" + expr + "}")
		}
		i += end
	}
	return b.String()
}

// visit walks the syntax tree with an explicit stack in source order.
func (v *fileVisitor) visit(ctx context.Context, root *sitter.Node) error {
	stack := make([]frame, 0, 64)
	pushChildren := func(n *sitter.Node, sc scope) {
		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: n.NamedChild(i), scope: sc})
		}
	}
	pushChildren(root, scope{})

	visited := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visited++
		if visited%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		n := f.node
		switch n.Type() {
		case "decorated_definition":
			def := n.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			var decos []*sitter.Node
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if c := n.NamedChild(i); c.Type() == "decorator" {
					decos = append(decos, c)
				}
			}
			stack = append(stack, frame{node: def, scope: f.scope, decos: decos})

		case "class_definition":
			body := n.ChildByFieldName("body")
			name := v.text(n.ChildByFieldName("name"))
			skipped := v.extractClass(n, name, f.scope)
			if body != nil {
				pushChildren(body, scope{class: name, classSkipped: skipped})
			}

		case "function_definition":
			inner := v.extractFunction(n, f.scope, f.decos)
			if body := n.ChildByFieldName("body"); body != nil {
				pushChildren(body, inner)
			}

		case "call":
			if f.scope.fn != "" && !f.scope.skipCalls {
				v.extractCall(n, f.scope)
			}
			pushChildren(n, f.scope)

		default:
			pushChildren(n, f.scope)
		}
	}
	return nil
}

// extractClass emits a class node unless the class or one of its bases is
// skip-listed. It reports whether the class was skipped.
func (v *fileVisitor) extractClass(n *sitter.Node, name string, sc scope) bool {
	bases := v.baseNames(n.ChildByFieldName("superclasses"))
	if name == "" || v.ex.skipClasses[name] || (sc.classSkipped && !sc.inFunc) {
		return true
	}
	for _, b := range bases {
		if v.ex.skipClasses[b] {
			return true
		}
	}
	v.result.Nodes = append(v.result.Nodes, model.CodeNode{
		Name:     name,
		Kind:     model.KindClass,
		Service:  v.service,
		FilePath: v.path,
		Summary:  v.summary(n, model.KindClass),
		Snippet:  v.snippet(n),
		Line:     int(n.StartPoint().Row) + 1,
		Bases:    bases,
	})
	return false
}

func (v *fileVisitor) baseNames(args *sitter.Node) []string {
	if args == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(args.NamedChildCount()); i++ {
		a := args.NamedChild(i)
		switch a.Type() {
		case "identifier":
			out = append(out, v.text(a))
		case "attribute":
			out = append(out, v.text(a.ChildByFieldName("attribute")))
		}
	}
	return out
}

// extractFunction emits a function or method node with its CONTAINS and
// route edges, and returns the scope for the function body.
func (v *fileVisitor) extractFunction(n *sitter.Node, sc scope, decos []*sitter.Node) scope {
	short := v.text(n.ChildByFieldName("name"))
	isMethod := sc.class != "" && !sc.inFunc

	name, kind := short, model.KindFunction
	if isMethod {
		name, kind = sc.class+"."+short, model.KindMethod
	}

	inner := scope{class: sc.class, classSkipped: sc.classSkipped, inFunc: true}
	if short == "" || v.ex.skipFunctions[short] || (isMethod && sc.classSkipped) {
		inner.skipCalls = true
		return inner
	}
	inner.fn, inner.fnKind = name, kind

	node := model.CodeNode{
		Name:       name,
		Kind:       kind,
		Service:    v.service,
		FilePath:   v.path,
		Summary:    v.summary(n, kind),
		Snippet:    v.snippet(n),
		Parameters: v.parameters(n.ChildByFieldName("parameters")),
		Line:       int(n.StartPoint().Row) + 1,
	}

	for _, d := range decos {
		method, path, ok := v.routeOf(d)
		if !ok {
			continue
		}
		if node.APIEndpoint == "" {
			node.APIMethod, node.APIEndpoint = method, path
		}
		v.addEndpoint(d, method, path, name, kind)
	}
	v.result.Nodes = append(v.result.Nodes, node)

	if isMethod {
		v.result.Relationships = append(v.result.Relationships, model.Relationship{
			Type:          model.RelContains,
			SourceName:    sc.class,
			SourceKind:    model.KindClass,
			SourceService: v.service,
			TargetName:    name,
			TargetKind:    kind,
			TargetService: v.service,
			Description:   fmt.Sprintf("%s contains %s", sc.class, name),
			LineNumber:    node.Line,
			Timestamp:     v.ex.now(),
		})
	}
	return inner
}

// routeOf recognizes @app.get("/p"), @router.post("/p") and
// @app.route("/p", methods=[...]) decorators.
func (v *fileVisitor) routeOf(d *sitter.Node) (method, path string, ok bool) {
	if d.NamedChildCount() == 0 {
		return "", "", false
	}
	call := d.NamedChild(0)
	if call.Type() != "call" {
		return "", "", false
	}
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return "", "", false
	}
	owner := v.text(fn.ChildByFieldName("object"))
	if j := strings.LastIndexByte(owner, '.'); j >= 0 {
		owner = owner[j+1:]
	}
	if !v.ex.routeOwners[owner] {
		return "", "", false
	}

	attr := v.text(fn.ChildByFieldName("attribute"))
	args := call.ChildByFieldName("arguments")
	pos := positionalArgs(args)
	var raw string
	if len(pos) > 0 {
		raw, ok = v.render(pos[0], 0)
	} else if p := v.keywordArg(args, "path"); p != nil {
		raw, ok = v.render(p, 0)
	}
	if !ok {
		return "", "", false
	}

	if m, isVerb := routeMethods[attr]; isVerb {
		return m, NormalizePath(raw), true
	}
	if attr != "route" && attr != "api_route" {
		return "", "", false
	}
	method = "GET"
	if list := v.keywordArg(args, "methods"); list != nil {
		for i := 0; i < int(list.NamedChildCount()); i++ {
			if s, isLit := v.literal(list.NamedChild(i)); isLit && s != "" {
				method = strings.ToUpper(s)
				break
			}
		}
	}
	return method, NormalizePath(raw), true
}

func (v *fileVisitor) addEndpoint(d *sitter.Node, method, path, fn string, fnKind model.NodeKind) {
	epName := method + " " + path
	line := int(d.StartPoint().Row) + 1
	v.result.Nodes = append(v.result.Nodes, model.CodeNode{
		Name:        epName,
		Kind:        model.KindEndpoint,
		Service:     v.service,
		FilePath:    v.path,
		Summary:     fmt.Sprintf("%s endpoint handled by %s", epName, fn),
		Snippet:     v.text(d),
		APIMethod:   method,
		APIEndpoint: path,
		Line:        line,
	})
	v.result.Relationships = append(v.result.Relationships, model.Relationship{
		Type:          model.RelExposes,
		SourceName:    epName,
		SourceKind:    model.KindEndpoint,
		SourceService: v.service,
		TargetName:    fn,
		TargetKind:    fnKind,
		TargetService: v.service,
		Endpoint:      path,
		HTTPMethod:    method,
		Description:   fmt.Sprintf("%s is served by %s", epName, fn),
		LineNumber:    line,
		Timestamp:     v.ex.now(),
	})
	v.result.Endpoints = append(v.result.Endpoints, Endpoint{
		Path:     path,
		Method:   method,
		Service:  v.service,
		Function: fn,
	})
}

// extractCall emits the CALLS and API_CALLS edges of one call expression.
// Both edges of the same call share its call order.
func (v *fileVisitor) extractCall(n *sitter.Node, sc scope) {
	target, ok := v.callTarget(n.ChildByFieldName("function"))
	if !ok {
		return
	}
	order := v.order[sc.fn] + 1
	line := int(n.StartPoint().Row) + 1
	emitted := false

	if name, ok := v.matcher.Resolve(target, sc.class); ok {
		v.result.Relationships = append(v.result.Relationships, model.Relationship{
			Type:          model.RelCalls,
			SourceName:    sc.fn,
			SourceKind:    sc.fnKind,
			SourceService: v.service,
			TargetName:    name,
			TargetKind:    model.KindFunction,
			TargetService: v.service,
			Description:   fmt.Sprintf("%s calls %s", sc.fn, name),
			CallOrder:     order,
			LineNumber:    line,
			Timestamp:     v.ex.now(),
		})
		emitted = true
	}

	if v.matcher.IsAPIClient(target) {
		if rel, ok := v.apiCall(n, target, sc, order, line); ok {
			v.result.Relationships = append(v.result.Relationships, rel)
			emitted = true
		}
	}

	if emitted {
		v.order[sc.fn] = order
	}
}

func (v *fileVisitor) callTarget(fn *sitter.Node) (CallTarget, bool) {
	if fn == nil {
		return CallTarget{}, false
	}
	switch fn.Type() {
	case "identifier":
		return CallTarget{Kind: Direct, Name: v.text(fn)}, true
	case "attribute":
		return CallTarget{
			Kind:  MemberAccess,
			Owner: v.text(fn.ChildByFieldName("object")),
			Name:  v.text(fn.ChildByFieldName("attribute")),
		}, true
	}
	return CallTarget{}, false
}

// apiCall reconstructs the URL argument of an HTTP client call into an
// unresolved API_CALLS relationship.
func (v *fileVisitor) apiCall(n *sitter.Node, target CallTarget, sc scope, order, line int) (model.Relationship, bool) {
	args := n.ChildByFieldName("arguments")
	urlArg := v.keywordArg(args, "url")
	if pos := positionalArgs(args); urlArg == nil && len(pos) > 0 {
		urlArg = pos[0]
	}
	if urlArg == nil {
		return model.Relationship{}, false
	}
	pattern, ok := v.render(urlArg, 0)
	if !ok {
		return model.Relationship{}, false
	}
	key, path, ok := ParseServiceURL(pattern, v.ex.serviceConsts.Match)
	if !ok {
		return model.Relationship{}, false
	}
	if k, known := v.result.BaseURLs[key]; known {
		key = k
	}

	method := routeMethods[strings.ToLower(target.Name)]
	if m := v.keywordArg(args, "method"); m != nil {
		if s, isLit := v.literal(m); isLit {
			method = strings.ToUpper(s)
		}
	}

	return model.Relationship{
		Type:          model.RelAPICalls,
		SourceName:    sc.fn,
		SourceKind:    sc.fnKind,
		SourceService: v.service,
		TargetKind:    model.KindFunction,
		TargetService: key,
		Endpoint:      path,
		HTTPMethod:    method,
		Description:   fmt.Sprintf("%s calls %s (unresolved)", sc.fn, pattern),
		CallOrder:     order,
		LineNumber:    line,
		Timestamp:     v.ex.now(),
	}, true
}

// summary returns the first docstring line or a generated default.
func (v *fileVisitor) summary(n *sitter.Node, kind model.NodeKind) string {
	if doc := v.docstring(n.ChildByFieldName("body")); doc != "" {
		return doc
	}
	return DefaultSummary(kind, v.service)
}

// DefaultSummary is the summary of a node without a docstring.
func DefaultSummary(kind model.NodeKind, service string) string {
	k := string(kind)
	if k == "" {
		return "Code in " + service
	}
	return strings.ToUpper(k[:1]) + k[1:] + " in " + service
}

func (v *fileVisitor) docstring(body *sitter.Node) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	content, _ := stringContent(v.text(str))
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// snippet returns the full source lines spanned by n.
func (v *fileVisitor) snippet(n *sitter.Node) string {
	start, end := int(n.StartPoint().Row), int(n.EndPoint().Row)
	if start >= len(v.lines) {
		return v.text(n)
	}
	if end >= len(v.lines) {
		end = len(v.lines) - 1
	}
	return strings.Join(v.lines[start:end+1], "\n")
}

// parameters returns parameter names, excluding self and cls.
func (v *fileVisitor) parameters(params *sitter.Node) []string {
	if params == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		var name string
		switch p.Type() {
		case "identifier":
			name = v.text(p)
		case "default_parameter", "typed_default_parameter":
			name = v.text(p.ChildByFieldName("name"))
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			if p.NamedChildCount() > 0 {
				name = v.text(p.NamedChild(0))
			}
		}
		name = strings.TrimLeft(name, "*")
		if name == "" || name == "self" || name == "cls" {
			continue
		}
		out = append(out, name)
	}
	return out
}
