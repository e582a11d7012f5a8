// Package comm provides the framed serial channel to the dongle.
package comm

// Two kinds of frames share the same byte stream:
//
//   - data frames: a fixed number of payload bytes followed by an end marker
//     of 0xFF bytes. Frame boundaries are detected by the end marker and the
//     total length, there is no length prefix;
//   - text lines: ASCII terminated by CRLF. The dongle prints connection
//     status this way and answers commands with lines bracketed by OK/END or
//     in KEY=value form.
//
// A Channel reads byte by byte until any of the delimiters of both kinds is
// seen, and the caller classifies what was read. Command transactions use
// the same reader line by line.
