// Package couchbase provides per-message transactional sessions backed by
// Couchbase distributed transactions.
package couchbase

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// Config holds connection settings, parsed with the COUCHBASE_ prefix.
type Config struct {
	ConnectionString string        `env:"CONNECTION_STRING"`
	Username         string        `env:"USERNAME" envDefault:"Administrator"`
	Password         string        `env:"PASSWORD"`
	BucketName       string        `env:"BUCKET_NAME" envDefault:"pubsub"`
	ScopeName        string        `env:"SCOPE_NAME" envDefault:"_default"`
	ConnectTimeout   time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	KVTimeout        time.Duration `env:"KV_TIMEOUT" envDefault:"5s"`
	TxnTimeout       time.Duration `env:"TXN_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether a cluster is configured.
func (c Config) Enabled() bool {
	return c.ConnectionString != ""
}

// Connect opens the cluster and waits for the bucket to become ready.
func Connect(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: config.ConnectTimeout,
			KVTimeout:      config.KVTimeout,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.BucketName)

	if err := bucket.WaitUntilReady(config.ConnectTimeout, nil); err != nil {
		_ = cluster.Close(nil)
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}
