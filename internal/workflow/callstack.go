// ABOUTME: Sub-workflow call stack guarding against cyclic composition
// ABOUTME: Frames are namespace/name@versionHash; entering a present frame fails with a witness

package workflow

import (
	"fmt"

	"github.com/weftwork/weft/pkg/types"
)

// CallStack tracks the chain of sub-workflow entries for one execution tree.
// It is immutable: Push returns a new stack so sibling forEach iterations
// each carry their own copy.
type CallStack struct {
	frames []string
}

// Frame identifies a workflow for cycle detection purposes
func Frame(namespace, name, versionHash string) string {
	return fmt.Sprintf("%s/%s@%s", namespace, name, versionHash)
}

// Contains reports whether a frame is already on the stack
func (s *CallStack) Contains(frame string) bool {
	for _, f := range s.frames {
		if f == frame {
			return true
		}
	}
	return false
}

// Push returns a new stack with the frame appended, or a CyclicWorkflowError
// carrying the witness cycle when the frame is already present.
func (s *CallStack) Push(frame string) (*CallStack, error) {
	if s.Contains(frame) {
		witness := make([]string, 0, len(s.frames)+1)
		started := false
		for _, f := range s.frames {
			if f == frame {
				started = true
			}
			if started {
				witness = append(witness, f)
			}
		}
		witness = append(witness, frame)
		return nil, &types.CyclicWorkflowError{Cycle: witness}
	}

	next := make([]string, len(s.frames)+1)
	copy(next, s.frames)
	next[len(s.frames)] = frame
	return &CallStack{frames: next}, nil
}

// Depth returns the number of frames on the stack
func (s *CallStack) Depth() int {
	return len(s.frames)
}
