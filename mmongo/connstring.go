package mmongo

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrBadScheme indicates a connection string that is not a MongoDB URI.
var ErrBadScheme = errors.New("connection string must start with mongodb: or mongodb+srv:")

// CheckScheme rejects empty connection strings and ones that do not use
// a MongoDB scheme.
func CheckScheme(uri string) error {
	if strings.HasPrefix(uri, "mongodb:") || strings.HasPrefix(uri, "mongodb+srv:") {
		return nil
	}

	return errors.Wrapf(ErrBadScheme, "got %#q", uri)
}

// MaybeAddDirectConnection adds the `directConnection` parameter
// to the connection string if:
//   - There is only 1 host.
//   - The connection string lacks parameters that contraindicate a
//     direct connection.
//
// This mimics mongosh’s behavior.
func MaybeAddDirectConnection(in string) (bool, string, error) {
	opts := options.Client().ApplyURI(in)
	if err := opts.Validate(); err != nil {
		return false, "", errors.Wrapf(err, "parsing connection string %#q", in)
	}

	var added bool

	switch len(opts.Hosts) {
	case 0:
		return false, "", fmt.Errorf("connection string has no hosts (%#q)", in)
	case 1:
		if opts.ReplicaSet == nil && opts.Direct == nil && opts.LoadBalanced == nil {
			opts.Direct = lo.ToPtr(true)
			added = true
		}
	}

	return added, opts.GetURI(), nil
}
