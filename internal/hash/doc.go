// Package hash provides the CRC32-Castagnoli (CRC32C) checksum used by
// journal frames and checkpoint manifests.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	checksum := h.Sum32()
package hash
