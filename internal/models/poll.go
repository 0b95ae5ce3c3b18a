package models

// Poll is a poll record as stored by the ledger contract. It never changes after creation.
type Poll struct {
	ID        uint32   `json:"id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"` // not exposed by the contract's storage getter; always empty on reads
	StartTime uint32   `json:"start_time"`
	EndTime   uint32   `json:"end_time"`
	Exists    bool     `json:"exists"`
}

// PollView is the denormalized read model for one poll, rebuilt on every fetch.
type PollView struct {
	PollID     uint32   `json:"poll_id"`
	Poll       Poll     `json:"poll"`
	Results    []uint64 `json:"results"`
	TotalVotes uint64   `json:"total_votes"`
	HasVoted   bool     `json:"has_voted"`
	IsActive   bool     `json:"is_active"`
}

// Percentages returns each option's share of the total, rounded to whole percent. All zero when nobody voted.
func (v PollView) Percentages() []int {
	out := make([]int, len(v.Results))
	if v.TotalVotes == 0 {
		return out
	}
	for i, n := range v.Results {
		out[i] = int((n*200 + v.TotalVotes) / (2 * v.TotalVotes))
	}
	return out
}

// Leading returns the indexes of the options holding the highest tally, or nil when there are no votes.
func (v PollView) Leading() []int {
	if v.TotalVotes == 0 {
		return nil
	}
	var max uint64
	for _, n := range v.Results {
		if n > max {
			max = n
		}
	}
	var idx []int
	for i, n := range v.Results {
		if n == max {
			idx = append(idx, i)
		}
	}
	return idx
}
