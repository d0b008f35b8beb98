// Package design defines the execution control API (C4) using Goa DSL. It
// documents the wire surface over which external clients drive and observe
// masterplan runs; the hand-authored transport in gen/execution implements
// this contract without running it through goa's code generator.
package design

import (
	. "goa.design/goa/v3/dsl"
)

var _ = API("atomexec", func() {
	Title("Atom Execution Core API")
	Description("Control API for starting, observing, and pausing/resuming masterplan executions")
	Version("2.0")
	Server("execd", func() {
		Host("dev", func() {
			URI("http://localhost:8080")
		})
		Services("execution")
	})

	Error("not_found", ErrorResult, "Run, wave, or atom identifier not found")
	Error("invalid_state", ErrorResult, "Requested transition is incompatible with the run's current state")
	Error("validation_error", ErrorResult, "Request payload failed shape validation")

	HTTP(func() {
		Response("not_found", StatusNotFound)
		Response("invalid_state", StatusBadRequest)
		Response("validation_error", StatusBadRequest)
	})
})

var _ = Service("execution", func() {
	Description("Drives masterplan plans to completion wave by wave and exposes their lifecycle")

	HTTP(func() {
		Path("/api/v2/execution")
	})

	Method("start", func() {
		Description("Start a run from a masterplan id, plan, and atom table")
		Payload(StartPayload)
		Result(StartResult)
		Error("validation_error")
		HTTP(func() {
			POST("/start")
			Response(StatusAccepted)
			Response("validation_error", StatusBadRequest)
		})
	})

	// health is registered ahead of the GET /{id} family deliberately: a
	// parameterised path mounted first would swallow "/health" as run id
	// "health" on any router that matches by registration order.
	Method("health", func() {
		Description("Liveness probe; reports service status and active run count")
		Result(HealthResult)
		HTTP(func() {
			GET("/health")
			Response(StatusOK)
		})
	})

	Method("get_state", func() {
		Description("Fetch the full Execution State snapshot for a run")
		Payload(RunIDPayload)
		Result(ExecutionStateResult)
		Error("not_found")
		HTTP(func() {
			GET("/{run_id}")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
		})
	})

	Method("get_progress", func() {
		Description("Fetch derived completion and precision percentages for a run")
		Payload(RunIDPayload)
		Result(ProgressResult)
		Error("not_found")
		HTTP(func() {
			GET("/{run_id}/progress")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
		})
	})

	Method("get_wave_result", func() {
		Description("Fetch the Wave Result for one completed wave of a run")
		Payload(WaveQueryPayload)
		Result(WaveResultType)
		Error("not_found")
		HTTP(func() {
			GET("/{run_id}/waves/{wave_index}")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
		})
	})

	Method("get_atom_result", func() {
		Description("Fetch the Execution Result for one atom of a run")
		Payload(AtomQueryPayload)
		Result(ExecutionResultType)
		Error("not_found")
		HTTP(func() {
			GET("/{run_id}/atoms/{atom_id}")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
		})
	})

	Method("pause", func() {
		Description("Request a cooperative pause at the next wave boundary")
		Payload(RunIDPayload)
		Result(AcknowledgementResult)
		Error("not_found")
		Error("invalid_state")
		HTTP(func() {
			POST("/{run_id}/pause")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
			Response("invalid_state", StatusBadRequest)
		})
	})

	Method("resume", func() {
		Description("Clear a pause flag and resume draining remaining waves")
		Payload(RunIDPayload)
		Result(AcknowledgementResult)
		Error("not_found")
		Error("invalid_state")
		HTTP(func() {
			POST("/{run_id}/resume")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
			Response("invalid_state", StatusBadRequest)
		})
	})

	Method("get_metrics", func() {
		Description("Fetch aggregated counters and derived precision for a run")
		Payload(RunIDPayload)
		Result(MetricsResult)
		Error("not_found")
		HTTP(func() {
			GET("/{run_id}/metrics")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
		})
	})
})

// ---- Shared identifier payloads ----

var RunIDPayload = Type("RunIDPayload", func() {
	Description("Identifies a run by its canonical UUID")
	Field(1, "run_id", String, "Run identifier", func() {
		Format(FormatUUID)
		Example("2f5b6e0a-9a3e-4e53-9d2e-7a0f2d6d8c11")
	})
	Required("run_id")
})

var WaveQueryPayload = Type("WaveQueryPayload", func() {
	Description("Identifies a wave within a run")
	Field(1, "run_id", String, "Run identifier", func() {
		Format(FormatUUID)
	})
	Field(2, "wave_index", Int, "Zero-based wave index", func() {
		Minimum(0)
	})
	Required("run_id", "wave_index")
})

var AtomQueryPayload = Type("AtomQueryPayload", func() {
	Description("Identifies an atom within a run")
	Field(1, "run_id", String, "Run identifier", func() {
		Format(FormatUUID)
	})
	Field(2, "atom_id", String, "Atom identifier")
	Required("run_id", "atom_id")
})

// ---- Start payload/result ----

var AtomType = Type("AtomType", func() {
	Description("A single code-generation unit submitted as part of a plan")
	Field(1, "id", String, "Atom identifier, unique within the plan")
	Field(2, "spec", String, "Natural-language specification for the atom's code")
	Field(3, "language", String, "Target language tag", func() {
		Example("go")
	})
	Field(4, "depends_on", ArrayOf(String), "Identifiers of atoms this one depends on")
	Field(5, "code", String, "Pre-existing generated code, if any (used as dependency context)")
	Required("id", "spec", "language")
})

var WaveType = Type("WaveType", func() {
	Description("An ordered group of atom identifiers scheduled to run concurrently")
	Field(1, "index", Int, "Zero-based wave index")
	Field(2, "atoms", ArrayOf(String), "Atom identifiers in this wave")
	Required("index", "atoms")
})

var PlanType = Type("PlanType", func() {
	Description("The full wave schedule for a masterplan")
	Field(1, "masterplan_id", String, "Masterplan identifier")
	Field(2, "waves", ArrayOf(WaveType), "Waves in execution order")
	Required("waves")
})

var StartPayload = Type("StartPayload", func() {
	Description("Request body for starting a run")
	Field(1, "masterplan_id", String, "Masterplan identifier", func() {
		Example("mp-2026-07-checkout")
	})
	Field(2, "plan", PlanType, "The wave schedule to execute")
	Field(3, "atoms_by_id", MapOf(String, AtomType), "Every atom referenced by the plan, keyed by id")
	Required("masterplan_id", "plan", "atoms_by_id")
})

var StartResult = Type("StartResult", func() {
	Description("Acknowledgement returned synchronously from start")
	Field(1, "execution_id", String, "Newly minted run identifier", func() {
		Format(FormatUUID)
	})
	Field(2, "status", String, "Initial status, pending or running")
	Required("execution_id", "status")
})

// ---- Query results ----

var HealthResult = Type("HealthResult", func() {
	Description("Liveness response")
	Field(1, "status", String, "Always \"ok\" when reachable")
	Field(2, "active_runs", Int, "Count of runs not yet in a terminal state")
	Required("status", "active_runs")
})

var ExecutionStateResult = Type("ExecutionStateResult", func() {
	Description("Full Execution State snapshot")
	Field(1, "run_id", String, "Run identifier")
	Field(2, "masterplan_id", String, "Masterplan identifier")
	Field(3, "status", String, "pending, running, paused, completed, or failed")
	Field(4, "current_wave", Int, "Index of the wave currently executing or last executed")
	Field(5, "total_waves", Int, "Total number of waves in the plan")
	Field(6, "atoms_total", Int, "Total atoms across all waves")
	Field(7, "atoms_completed", Int, "Atoms that have a final result")
	Field(8, "atoms_succeeded", Int, "Atoms that passed validation")
	Field(9, "atoms_failed", Int, "Atoms that exhausted their retry budget")
	Field(10, "started_at", String, "ISO-8601 start timestamp", func() { Format(FormatDateTime) })
	Field(11, "completed_at", String, "ISO-8601 completion timestamp, empty if not terminal", func() { Format(FormatDateTime) })
	Field(12, "total_time_seconds", Float64, "Wall-clock seconds spent executing waves so far")
	Field(13, "error", String, "Uncaught drive-loop fault message, empty unless failed internally")
	Required("run_id", "masterplan_id", "status", "current_wave", "total_waves", "atoms_total", "atoms_completed", "atoms_succeeded", "atoms_failed")
})

var ProgressResult = Type("ProgressResult", func() {
	Description("Derived completion and precision view")
	Field(1, "run_id", String, "Run identifier")
	Field(2, "completion_percent", Float64, "atoms_completed / atoms_total * 100")
	Field(3, "precision_percent", Float64, "atoms_succeeded / atoms_total * 100")
	Field(4, "current_wave", Int, "Index of the wave currently executing or last executed")
	Field(5, "total_waves", Int, "Total number of waves in the plan")
	Field(6, "atoms_total", Int, "Total atoms across all waves")
	Field(7, "atoms_completed", Int, "Atoms that have a final result")
	Field(8, "atoms_succeeded", Int, "Atoms that passed validation")
	Field(9, "atoms_failed", Int, "Atoms that exhausted their retry budget")
	Required("run_id", "completion_percent", "precision_percent", "current_wave", "total_waves", "atoms_total", "atoms_completed", "atoms_succeeded", "atoms_failed")
})

var AttemptResultType = Type("AttemptResultType", func() {
	Description("One generation attempt within a Retry Result")
	Field(1, "attempt", Int, "1-based attempt index")
	Field(2, "temperature", Float64, "Sampling temperature used for this attempt")
	Field(3, "code", String, "Generated code, if any was extracted")
	Field(4, "passed", Boolean, "Whether the validator accepted this attempt")
	Field(5, "port_error", String, "Port-raised error message, if any")
	Required("attempt", "temperature", "passed")
})

var ExecutionResultType = Type("ExecutionResultType", func() {
	Description("The outcome of driving one atom to completion or exhaustion")
	Field(1, "wave_index", Int, "Index of the wave this atom belonged to")
	Field(2, "atom_id", String, "Atom identifier")
	Field(3, "success", Boolean, "Whether the atom reached validator-passing code")
	Field(4, "attempts", Int, "Number of attempts made")
	Field(5, "code", String, "Final generated code")
	Field(6, "errors", ArrayOf(String), "Accumulated blocking error messages across attempts")
	Field(7, "fatal_error", String, "Non-recoverable error from the final attempt, if any")
	Field(8, "elapsed_seconds", Float64, "Wall-clock seconds spent on this atom")
	Required("wave_index", "atom_id", "success", "attempts", "elapsed_seconds")
})

var WaveResultType = Type("WaveResultType", func() {
	Description("The aggregate outcome of one wave")
	Field(1, "wave_index", Int, "Zero-based wave index")
	Field(2, "results", ArrayOf(ExecutionResultType), "Per-atom results")
	Field(3, "succeeded", Int, "Count of atoms that succeeded")
	Field(4, "failed", Int, "Count of atoms that failed")
	Field(5, "elapsed_seconds", Float64, "Wall-clock seconds spent on the wave")
	Field(6, "average_attempts", Float64, "Mean attempts across the wave's atoms")
	Required("wave_index", "results", "succeeded", "failed", "elapsed_seconds")
})

var MetricsResult = Type("MetricsResult", func() {
	Description("Aggregated counters and derived precision for a run")
	Field(1, "run_id", String, "Run identifier")
	Field(2, "atoms_total", Int, "Total atoms across all waves")
	Field(3, "atoms_succeeded", Int, "Atoms that passed validation")
	Field(4, "atoms_failed", Int, "Atoms that exhausted their retry budget")
	Field(5, "precision_percent", Float64, "atoms_succeeded / atoms_total * 100")
	Field(6, "total_time_seconds", Float64, "Wall-clock seconds spent executing waves")
	Field(7, "total_input_tokens", Int, "Cumulative input tokens across every attempt")
	Field(8, "total_output_tokens", Int, "Cumulative output tokens across every attempt")
	Field(9, "estimated_cost_usd", Float64, "Derived cost estimate from token usage")
	Required("run_id", "atoms_total", "atoms_succeeded", "atoms_failed", "precision_percent", "total_time_seconds")
})

var AcknowledgementResult = Type("AcknowledgementResult", func() {
	Description("Acknowledgement of a pause or resume request")
	Field(1, "run_id", String, "Run identifier")
	Field(2, "status", String, "Status after the transition")
	Required("run_id", "status")
})
