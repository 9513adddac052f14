package verifier

import (
	"context"

	"github.com/mongodb-labs/digest-verifier/internal/fetcher"
	"github.com/mongodb-labs/digest-verifier/internal/util"
	"github.com/mongodb-labs/digest-verifier/mmongo"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const appName = "digest-verifier"

// Cluster hands out the collections of one cluster.
type Cluster interface {
	Collection(db, coll string) fetcher.Collection
}

// MongoCluster is a Cluster backed by a driver client.
type MongoCluster struct {
	client *mongo.Client
}

func (mc MongoCluster) Collection(db, coll string) fetcher.Collection {
	return mc.client.Database(db).Collection(coll)
}

func (verifier *Verifier) connectCluster(ctx context.Context, label, uri string) (*mongo.Client, error) {
	if err := mmongo.CheckScheme(uri); err != nil {
		return nil, errors.Wrapf(err, "%s connection string", label)
	}

	added, uri, err := mmongo.MaybeAddDirectConnection(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "preparing %s connection string", label)
	}

	if added {
		verifier.logger.Debug().
			Str("cluster", label).
			Msg("Connection string has a single host; connecting directly.")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName(appName))
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", label)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Wrapf(err, "pinging %s", label)
	}

	bi, err := util.GetBuildInfo(ctx, client)
	if err != nil {
		verifier.logger.Warn().Err(err).Str("cluster", label).Msg("Failed to read server build info.")
	} else {
		verifier.logger.Info().
			Str("cluster", label).
			Str("version", bi.Version).
			Bool("sharded", bi.IsSharded).
			Msg("Connected.")
	}

	verifier.closers = append(verifier.closers, func(ctx context.Context) error {
		return errors.Wrapf(client.Disconnect(ctx), "disconnecting from %s", label)
	})

	return client, nil
}
