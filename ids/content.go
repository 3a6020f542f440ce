// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package ids

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ContentAddress derives a content-addressed DeltaId/Hash from bytes using
// a sha2-256 multihash, the same digest family defradb's merkledag blocks
// use. The multihash's digest (stripped of its length/code prefix) is what
// populates the 32-byte ID.
func ContentAddress(data []byte) (ID, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return ID{}, err
	}
	decoded, err := mh.Decode(sum)
	if err != nil {
		return ID{}, err
	}
	return FromBytes(decoded.Digest)
}

// CID renders id as a CIDv1 raw-codec multihash, for interop with IPLD
// tooling that expects a cid.Cid rather than a bare 32-byte array.
func (id ID) CID() (cid.Cid, error) {
	digest, err := mh.Encode(id[:], mh.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}
