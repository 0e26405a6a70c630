package workload

import (
	"fmt"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"go.uber.org/zap"
)

// Violation reasons.
const (
	ReasonMalformedReport = "Conflicting keys are malformed"
	ReasonNotReadRange    = "Returned conflicting keys are not original or merged readConflictRanges"
	ReasonNoWriteOverlap  = "Returned keyrange is not conflicting with any writeConflictRange"
	ReasonMissedConflict  = "No conflicts returned but it should"
)

// Violation is a broken conflict reporting invariant.
type Violation struct {
	Reason string
	// Reported is the offending reported range, if any.
	Reported *keyrange.KeyRange
	// Pairs holds each (read, write) pair that overlaps although the read transaction committed.
	Pairs [][2]keyrange.KeyRange
	Detail string
}

func (v Violation) String() string {
	s := v.Reason
	if v.Reported != nil {
		s += fmt.Sprintf(" %v", *v.Reported)
	}
	for _, p := range v.Pairs {
		s += fmt.Sprintf(" read %v write %v", p[0], p[1])
	}
	if v.Detail != "" {
		s += ": " + v.Detail
	}
	return s
}

// CheckConflict verifies the conflicting keys reported for a transaction that failed to commit. reported is the
// raw special key space content, reads are the failed transaction's read conflict ranges and writes are the write
// conflict ranges of the transaction that committed before it.
//
// Each reported range must contain one of the reads and overlap one of the writes. A range failing both only
// yields the first violation.
func CheckConflict(reported []txnapi.KeyValue, reads, writes []keyrange.KeyRange) []Violation {
	ranges, err := txnapi.DecodeConflictingKeys(reported)
	if err != nil {
		return []Violation{{Reason: ReasonMalformedReport, Detail: err.Error()}}
	}
	var violations []Violation
	for i := range ranges {
		kr := ranges[i]
		if !containsAny(kr, reads) {
			violations = append(violations, Violation{Reason: ReasonNotReadRange, Reported: &kr})
		} else if !intersectsAny(kr, writes) {
			violations = append(violations, Violation{Reason: ReasonNoWriteOverlap, Reported: &kr})
		}
	}
	return violations
}

// CheckCommitted verifies that no read of a committed transaction overlaps a write committed after its read
// version. All overlapping pairs are reported in a single violation.
func CheckCommitted(reads, writes []keyrange.KeyRange) []Violation {
	var pairs [][2]keyrange.KeyRange
	for _, r := range reads {
		for _, w := range writes {
			if r.Intersects(w) {
				pairs = append(pairs, [2]keyrange.KeyRange{r, w})
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	return []Violation{{Reason: ReasonMissedConflict, Pairs: pairs}}
}

func containsAny(kr keyrange.KeyRange, ranges []keyrange.KeyRange) bool {
	for _, r := range ranges {
		if kr.Contains(r) {
			return true
		}
	}
	return false
}

func intersectsAny(kr keyrange.KeyRange, ranges []keyrange.KeyRange) bool {
	for _, r := range ranges {
		if kr.Intersects(r) {
			return true
		}
	}
	return false
}

// Checker records violations in the counters and logs each as a TestFailure.
type Checker struct {
	counters *Counters
	logger   *zap.Logger
}

func NewChecker(counters *Counters, logger *zap.Logger) *Checker {
	return &Checker{counters: counters, logger: logger}
}

// Record counts and logs violations. It never stops the run.
func (c *Checker) Record(violations []Violation) {
	for _, v := range violations {
		c.counters.incInvalidReports()
		violationCounter.WithLabelValues(v.Reason).Inc()
		fields := []zap.Field{zap.String("reason", v.Reason)}
		if v.Reported != nil {
			fields = append(fields, zap.Stringer("conflicting-range", *v.Reported))
		}
		if len(v.Pairs) > 0 {
			reads := make([]string, 0, len(v.Pairs))
			writes := make([]string, 0, len(v.Pairs))
			for _, p := range v.Pairs {
				reads = append(reads, p[0].String())
				writes = append(writes, p[1].String())
			}
			fields = append(fields, zap.Strings("read-conflict-ranges", reads), zap.Strings("write-conflict-ranges", writes))
		}
		if v.Detail != "" {
			fields = append(fields, zap.String("detail", v.Detail))
		}
		c.logger.Error("TestFailure", fields...)
	}
}
