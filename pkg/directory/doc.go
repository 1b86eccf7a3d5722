// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package directory resolves the AS4 endpoint and certificate of a Peppol
receiver.

Resolution happens in two steps:

 1. SML lookup: the receiver's SMP is located through a DNS U-NAPTR query
    for <hash>.<scheme>.<zone>, where hash is the unpadded Base32 encoding
    of the SHA-256 of the lowercased participant identifier.
 2. SMP query: the SMP's ServiceMetadata for the receiver and document type
    is fetched, and the endpoint registered for the process with the Peppol
    AS4 transport profile is selected.

A fixed SMP URL can be configured to skip step 1, e.g. for testing against
a local SMP.

	client := directory.New(directory.Options{Environment: directory.EnvTest})
	res, err := client.Lookup(ctx, receiver, docType, process)
	if err != nil {
	    return err
	}
	fmt.Println(res.EndpointURL, res.Certificate.Subject)

# References

  - Peppol Policy for use of Identifiers
  - Peppol SMP specification 1.x and SML specification 1.2 (BDXL)
*/
package directory
