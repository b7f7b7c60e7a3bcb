// Package errhandler intercepts runtime error signals and uncaught
// exceptions and hands normalized errors to a capture client.
//
// A Handler is bound to a Runtime (the hook table and diagnostic surface,
// see package procrt for the process implementation) and a Client (the
// capture sink, see aisen.Client):
//
//	h := errhandler.NewHandler(client, rt).
//	    RegisterErrorHandler(false, errhandler.MaskDefault).
//	    RegisterExceptionHandler(false).
//	    RegisterShutdownHandler()
//
// Three paths lead to Client.Capture:
//
//   - HandleError: live error signals, filtered by the handler's mask or,
//     with MaskDefault, by the runtime's reporting mask read at signal time.
//   - HandleException: uncaught exceptions, never filtered.
//   - HandleFatalError: at teardown, the runtime's last fatal signal, unless
//     HandleError already delivered the same signal.
//
// Hooks installed before the handler can be chained with the propagate
// flags; otherwise they are bypassed.
package errhandler
