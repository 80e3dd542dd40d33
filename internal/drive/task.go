// Package drive runs periodic tasks on a single background loop.
//
// A Scheduler owns one goroutine. Every tick it invokes each registered Task
// once, in registration order, keeps the tasks that ask to continue, accepts at
// most one message from its inbox and then sleeps for the tick interval. The
// interval is a plain sleep, not a deadline, so the cadence drifts by the cost
// of each tick.
package drive

// Task is a unit of periodic work. Drive reports whether the task wants to be
// invoked again; returning false or an error removes it for good.
type Task interface {
	Drive() (bool, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc func() (bool, error)

// Drive calls f.
func (f TaskFunc) Drive() (bool, error) {
	return f()
}
