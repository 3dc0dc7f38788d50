package roofline

import "github.com/nanoprof/miniperf/internal/merr"

// errLIFOViolation is returned when notify_loop_end's handle does not
// match the top of its thread's loop stack: the compiler-generated
// dispatch shim would only do this under miscompilation (spec.md §7:
// internal_invariant_violation, fatal).
var errLIFOViolation = merr.New(merr.InternalInvariantViolation, "loop end handle does not match top of stack (LIFO violation)")

// errInvalidHandle is returned when notify_loop_stats targets a handle
// with no corresponding open frame.
var errInvalidHandle = merr.New(merr.InternalInvariantViolation, "loop stats handle does not reference an open frame")

// errStackOverflow is panicked when notify_loop_begin would nest a
// thread's loop stack past maxLoopDepth: the fixed-depth stack has no
// allocation path to grow into, so overflow is fatal rather than an
// allocation (spec.md §4.5).
var errStackOverflow = merr.New(merr.InternalInvariantViolation, "loop stack depth exceeded fixed maximum (fatal)")
