package workflow

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const workflowTracerName = "weft.workflow"

const (
	spanRunForward     = "workflow.run.forward"
	spanStepInvoke     = "workflow.step.invoke"
	spanRunCompensate  = "workflow.run.compensate"
	spanStepCompensate = "workflow.step.compensate"
	spanRunResume      = "workflow.run.resume"
)

func workflowTracer() trace.Tracer {
	return otel.Tracer(workflowTracerName)
}
