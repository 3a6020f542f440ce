// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package secure

import (
	"crypto/rand"

	"github.com/contextmesh/core/errors"
)

func fillRandom(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return errors.Crypto("failed to read random bytes", err)
	}
	return nil
}
