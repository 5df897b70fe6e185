// Copyright 2026 The rclonepool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errtypes_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/errtypes"
)

func TestMarkerInterfacesMatch(t *testing.T) {
	var err error = errtypes.NotFound("manifests/a.json")
	var isNotFound errtypes.IsNotFound
	require.True(t, errors.As(err, &isNotFound))

	err = errtypes.AlreadyExists("manifests/a.json")
	var isExists errtypes.IsAlreadyExists
	require.True(t, errors.As(err, &isExists))

	err = errtypes.Integrity("size mismatch")
	var isIntegrity errtypes.IsIntegrity
	require.True(t, errors.As(err, &isIntegrity))

	err = errtypes.Policy("replication_factor exceeds remotes")
	var isPolicy errtypes.IsPolicy
	require.True(t, errors.As(err, &isPolicy))

	err = errtypes.Auth("bad credentials")
	var isAuth errtypes.IsAuth
	require.True(t, errors.As(err, &isAuth))

	err = errtypes.Cancelled("context done")
	var isCancelled errtypes.IsCancelled
	require.True(t, errors.As(err, &isCancelled))
}

func TestTransientUnwrapsUnderlyingError(t *testing.T) {
	sentinel := errors.New("connection reset")
	err := &errtypes.Transient{Remote: "A", Attempts: 3, Err: sentinel}

	require.True(t, errors.Is(err, sentinel))
	var isTransient errtypes.IsTransient
	require.True(t, errors.As(error(err), &isTransient))
	require.Contains(t, err.Error(), "A")
	require.Contains(t, err.Error(), "3 attempts")
}
