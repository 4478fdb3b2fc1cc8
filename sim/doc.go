// Package sim provides the discrete-event kernel and protocol-coordination
// core for quantum network simulations.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - simulator.go, event.go: the event loop and the (time, priority, seq) ordering
//   - bus.go: signals raised by protocols and memories, delivered in zero-delay events
//   - await.go, conditions.go: composable AND/OR wait expressions and their primitives
//   - machine.go: the protocol state machine (Stopped, Running, Waiting)
//
// # Architecture
//
// Protocols never block. A Body's Run arms one await expression with a
// continuation; the continuation runs inside a later event and either arms the
// next expression, raises SUCCESS or FAIL, or returns, which stops the machine.
// Machines own memory slots (memory.go) and exchange classical messages over
// ports (port.go). Parent machines start, stop and watch children through a
// Group (tree.go).
//
// Sub-packages build on the kernel:
//   - sim/qproc/: entangled pairs under a Pauli frame, the pair source and the gate processor
//   - sim/chain/: the linear repeater chain (swaps and end-node corrections)
//   - sim/distill/: nested purification between two nodes
//   - sim/scenario/: YAML and HCL run descriptions
//   - sim/trace/: signal and round recording
//
// # Key Interfaces
//
//   - Body: the protocol logic a Machine runs (Ready, Run); Resetter and Stopper are optional
//   - Emitter: anything that raises signals on the Bus
//   - Event: anything the Simulator can schedule
package sim
