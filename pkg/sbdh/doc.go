// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package sbdh builds and parses Peppol Standard Business Document Headers.

Every Peppol business document travels inside an SBDH envelope that carries
the sender and receiver participant identifiers, the document type and
process identifiers, and the country of the sending end user (C1):

	data, err := sbdh.NewData(sender, receiver, docType, process, "DE", invoiceRoot)
	if err != nil {
	    return err
	}
	xmlBytes, err := sbdh.Build(data)

[Parse] performs the reverse operation and validates that all routing
fields are present.
*/
package sbdh
