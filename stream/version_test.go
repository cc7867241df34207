// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"strconv"
	"testing"

	"mellium.im/xmppconn/stream"
)

var versionTests = [...]struct {
	in  string
	out stream.Version
	err bool
}{
	0: {in: "1.0", out: stream.Version{Major: 1, Minor: 0}},
	1: {in: "0.9", out: stream.Version{Major: 0, Minor: 9}},
	2: {in: "12.255", out: stream.Version{Major: 12, Minor: 255}},
	3: {in: "1", err: true},
	4: {in: "1.", err: true},
	5: {in: "one.zero", err: true},
	6: {in: "1.256", err: true},
}

func TestParseVersion(t *testing.T) {
	for i, tc := range versionTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			v, err := stream.ParseVersion(tc.in)
			switch {
			case tc.err && err == nil:
				t.Fatalf("expected parsing %q to fail", tc.in)
			case !tc.err && err != nil:
				t.Fatalf("unexpected error parsing %q: %v", tc.in, err)
			case err == nil && v != tc.out:
				t.Errorf("wrong version: want=%v, got=%v", tc.out, v)
			case err == nil && v.String() != tc.in:
				t.Errorf("round trip failed: want=%q, got=%q", tc.in, v.String())
			}
		})
	}
}
