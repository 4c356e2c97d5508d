package governor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/jeeves-cluster-organization/repairkernel/commbus"
)

// safeProduce invokes the outcome producer with panic recovery. A
// panicking producer is reported as a producer failure, never allowed to
// crash the loop.
func safeProduce(ctx context.Context, logger commbus.Logger, producer OutcomeProducer, req *ProducerRequest) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logger.Error("panic_recovered",
				"operation", "outcome_producer",
				"panic", r,
				"stack", stack,
			)
			out = nil
			err = fmt.Errorf("panic in outcome producer: %v", r)
		}
	}()

	return producer.Produce(ctx, req)
}
