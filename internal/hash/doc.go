// Package hash holds the checksum used by snapshot bodies, region headers
// and S3 uploads: CRC-32 with the Castagnoli polynomial, which the Go
// runtime computes with SSE4.2 or the ARMv8 CRC instructions when present.
package hash
