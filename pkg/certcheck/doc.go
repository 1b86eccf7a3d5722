// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package certcheck verifies the access point certificate published in the SMP
before a message is sent to it.

A [Checker] evaluates, in order:

 1. presence of a certificate
 2. validity period at the check time
 3. chain to the configured Peppol AP CA pool (skipped when no pool is set)
 4. revocation status via OCSP (optional)

The outcome is a [Result] such as VALID or EXPIRED, which is what gets
recorded next to each outbound transmission.
*/
package certcheck
