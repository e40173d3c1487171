package hashchain

import (
	"fmt"

	"github.com/agentlens/agentlens/pkg/models"
)

// VerifyResult reports the outcome of a chain verification. Failures are
// reported, never panicked: corrupt chains surface as data, not faults.
type VerifyResult struct {
	Valid         bool   `json:"valid"`
	FailedAtIndex int    `json:"failedAtIndex"` // -1 when valid
	Reason        string `json:"reason,omitempty"`
}

func valid() VerifyResult {
	return VerifyResult{Valid: true, FailedAtIndex: -1}
}

func failed(i int, format string, args ...any) VerifyResult {
	return VerifyResult{Valid: false, FailedAtIndex: i, Reason: fmt.Sprintf(format, args...)}
}

// VerifyChain checks an ordered event list as a complete chain: the first
// event must be genesis (prevHash null), every stored hash must match a
// recomputation from the stored fields, and every link must point at the
// preceding event's hash. An empty list is valid.
func VerifyChain(events []*models.Event) VerifyResult {
	return verify(events, nil, true)
}

// VerifyChainBatch is the streaming variant: the first event's prevHash must
// equal the caller-provided anchor from the previous page (nil for genesis).
func VerifyChainBatch(events []*models.Event, expectedPrevHash *string) VerifyResult {
	return verify(events, expectedPrevHash, false)
}

func verify(events []*models.Event, anchor *string, requireGenesis bool) VerifyResult {
	if len(events) == 0 {
		return valid()
	}

	first := events[0]
	if requireGenesis {
		if first.PrevHash != nil {
			return failed(0, "first event has prevHash %q, expected null genesis", *first.PrevHash)
		}
	} else if !hashPtrEqual(first.PrevHash, anchor) {
		return failed(0, "first event prevHash does not match the expected anchor")
	}

	for i, e := range events {
		recomputed := EventHash(e)
		if recomputed != e.Hash {
			return failed(i, "stored hash mismatch at index %d: event fields do not reproduce the stored digest", i)
		}
		if i > 0 && !hashPtrEqual(e.PrevHash, &events[i-1].Hash) {
			return failed(i, "broken link at index %d: prevHash does not match the preceding event's hash", i)
		}
	}
	return valid()
}

func hashPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
