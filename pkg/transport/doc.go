// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport builds the HTTP clients used to reach SMPs and remote
access points.

	client, err := transport.NewClient(&transport.ClientSettings{
	    ProxyURL:       "http://proxy.internal:3128",
	    ConnectTimeout: 5 * time.Second,
	    RequestTimeout: 60 * time.Second,
	})

TLS 1.2 is the minimum version, as required by the Peppol AS4 profile.
*/
package transport
