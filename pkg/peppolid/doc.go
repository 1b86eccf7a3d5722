// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package peppolid turns raw Peppol identifier strings into validated values.

Peppol uses three identifier kinds, each qualified by a scheme:

  - Participant identifiers, e.g. iso6523-actorid-upis::0088:5798000000001
  - Document type identifiers, e.g. busdox-docid-qns::urn:oasis:...::Invoice##...::2.1
  - Process identifiers, e.g. cenbii-procid-ubl::urn:fdc:peppol.eu:2017:poacc:billing:01:1.0

A [Resolver] accepts either the URI-encoded form (scheme::value) or a bare
value, in which case the configured default scheme is applied:

	r := peppolid.DefaultResolver()
	receiver, err := r.Participant("0088:5798000000001")
	if err != nil {
	    return err
	}
	fmt.Println(receiver.URIEncoded()) // iso6523-actorid-upis::0088:5798000000001

Participant identifier values are case-insensitive and are normalized to
lower case. Document type and process values are kept verbatim.
*/
package peppolid
