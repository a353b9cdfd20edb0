// Package protocol implements the control side of the realtime wire
// protocol: the JSON subscribe envelope, acknowledgement decoding and the
// structural check that splits inbound text into control frames and
// positional data frames.
//
// Data frames are only split into their compound header and body here.
// Decoding bodies into messages is the parser package's job.
package protocol
