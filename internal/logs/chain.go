package logs

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

// BuildChains orders events within each trace by timestamp, breaking ties
// by Seq, and links consecutive events with next_log relationships. A trace
// of n events yields n-1 edges. Events without an ID are assigned one. The
// returned events are grouped by trace id in sorted order.
func BuildChains(events []model.LogEvent) ([]model.LogEvent, []model.Relationship) {
	byTrace := make(map[string][]model.LogEvent)
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		byTrace[e.TraceID] = append(byTrace[e.TraceID], e)
	}

	traces := make([]string, 0, len(byTrace))
	for t := range byTrace {
		traces = append(traces, t)
	}
	sort.Strings(traces)

	ordered := make([]model.LogEvent, 0, len(events))
	var chain []model.Relationship
	for _, trace := range traces {
		evs := byTrace[trace]
		sort.SliceStable(evs, func(i, j int) bool {
			if !evs[i].Timestamp.Equal(evs[j].Timestamp) {
				return evs[i].Timestamp.Before(evs[j].Timestamp)
			}
			return evs[i].Seq < evs[j].Seq
		})
		ordered = append(ordered, evs...)

		for i := 1; i < len(evs); i++ {
			prev, cur := evs[i-1], evs[i]
			chain = append(chain, model.Relationship{
				Type:          model.RelNextLog,
				SourceID:      prev.ID,
				TargetID:      cur.ID,
				SourceKind:    model.KindLog,
				TargetKind:    model.KindLog,
				SourceService: prev.Service,
				TargetService: cur.Service,
				Description:   fmt.Sprintf("Next log in trace %s", trace),
				CallOrder:     i,
				Timestamp:     cur.Timestamp,
			})
		}
	}
	return ordered, chain
}
