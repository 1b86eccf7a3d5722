// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression implements the AS4 payload compression feature.

The Peppol AS4 profile requires the SBDH attachment to be GZIP compressed.
The compression is announced in the PartInfo with the part property
CompressionType=application/gzip, while MimeType keeps the original
content type:

	compressed, err := compression.Compress(sbdhBytes)
	...
	original, err := compression.Decompress(compressed)
*/
package compression
