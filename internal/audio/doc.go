// Package audio splits audio sources into request-sized chunks and inspects
// WAV headers.
package audio
