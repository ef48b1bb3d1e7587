// Package infer dispatches batches of asynchronous inference calls against a
// single compiled model and aggregates their outcomes.
//
// A call to Dispatcher.Submit creates one task per input set. Every task gets
// its own inference request from the compiled model and races that request
// against a deadline; the first to finish decides the task's outcome, which is
// one of success, engine failure, or timeout. A failing or slow task never
// affects its siblings.
//
// Outcomes are published on the returned Handle:
//
//   - a "result" event as soon as each task settles, in completion order;
//   - one "finish" event once every task has settled, carrying all outcomes
//     in the order the inputs were submitted.
//
// Listeners for a category run in registration order and never interleave.
// A listener registered after an event fired does not see it; pass
// WithListener to Submit to observe a batch from its first event.
//
//	h, err := d.Submit(ctx, compiled, inputs, 20*time.Millisecond,
//		infer.WithListener(infer.CategoryResult, func(ev infer.Event) {
//			log.Println(ev.Index, ev.Err)
//		}))
//	if err != nil {
//		return err
//	}
//	results, err := h.Wait(ctx)
package infer
