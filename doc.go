// Package nacosconfig is a client for the Nacos configuration center. It
// fetches, publishes, deletes, and subscribes to key/value configuration
// items identified by (dataId, group, tenant).
//
// Reads follow a three-tier strategy: a manually placed failover file
// overrides everything, then the server, then the snapshot of the last
// value read from or published to it. Subscriptions are driven by a long-polling pipeline
// that probes the server for changed digests and fans fresh content out to
// listeners.
//
//	opts := nacosconfig.Options{
//		ServerAddresses: []string{"http://localhost:8848"},
//	}
//	client, err := nacosconfig.New(opts)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	content, err := client.GetConfig(ctx, "app.yaml", "DEFAULT_GROUP")
package nacosconfig
