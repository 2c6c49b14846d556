package agent

import "github.com/challengechat/challengechat/internal/config"

// Estimate sums the token cost of the textual content of msgs. Tool-call
// arguments are not counted.
func Estimate(msgs []Message, counter TokenCounter) int {
	total := 0
	for _, m := range msgs {
		total += counter.Count(m.Content)
	}
	return total
}

// Truncate drops the oldest messages until the estimated prompt plus the
// profile's output reserve fits in the context limit.
//
// A leading system message is never evicted; eviction starts right after it.
// At least one message (the pinned one plus one more, when pinned) always
// remains even if the budget is still exceeded. The input slice is left
// untouched.
func Truncate(msgs []Message, profile config.ModelProfile, counter TokenCounter) []Message {
	if len(msgs) == 0 {
		return msgs
	}
	if counter == nil {
		counter = HeuristicCounter
	}

	out := CloneMessages(msgs)
	pinned := out[0].Role == RoleSystem
	evictAt, floor := 0, 1
	if pinned {
		evictAt, floor = 1, 2
	}

	costs := make([]int, len(out))
	total := 0
	for i, m := range out {
		costs[i] = counter.Count(m.Content)
		total += costs[i]
	}

	for total+profile.OutputReserve > profile.ContextLimit && len(out) > floor {
		total -= costs[evictAt]
		out = append(out[:evictAt], out[evictAt+1:]...)
		costs = append(costs[:evictAt], costs[evictAt+1:]...)
	}
	return out
}
