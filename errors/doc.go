// Package errors classifies failures into three classes so callers can decide
// what to do with them without inspecting messages:
//
//   - ErrorTransient: the link or file may work on a later attempt
//     (device unplugged, port busy, read timeout).
//   - ErrorInvalid: the input was wrong (bad checksum, truncated record,
//     malformed configuration value).
//   - ErrorFatal: processing cannot continue (missing configuration,
//     disk full).
//
// Errors carry context in the form "component.method: action failed: cause":
//
//	if err := m.driver.Open(id, mode); err != nil {
//		return errors.WrapTransient(err, "Manager", "Open", "open serial device")
//	}
//
// The standard sentinels (ErrAlreadyOpen, ErrNotLoaded, ErrChecksumFailed, ...)
// survive wrapping and can be tested with errors.Is.
//
// gcslink never retries I/O on its own. A failed open or a fatal read error
// leaves the component closed and is reported to the caller.
package errors
