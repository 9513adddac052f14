package util

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type BuildInfo struct {
	Version   string
	IsSharded bool
}

// GetBuildInfo asks the server for its version, and whether it is a mongos.
func GetBuildInfo(ctx context.Context, client *mongo.Client) (BuildInfo, error) {
	rawResp, err := client.Database("admin").RunCommand(ctx, bson.D{{"buildinfo", 1}}).Raw()
	if err != nil {
		return BuildInfo{}, errors.Wrap(err, "failed to fetch build info")
	}

	bi := BuildInfo{}

	version, ok := rawResp.Lookup("version").StringValueOK()
	if !ok {
		return BuildInfo{}, errors.Errorf("build info lacks a string %#q", "version")
	}
	bi.Version = version

	msg, _ := rawResp.Lookup("msg").StringValueOK()
	bi.IsSharded = msg == "isdbgrid"

	return bi, nil
}
