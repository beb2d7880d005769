// Package client is the Windchill Go SDK.
//
// It lets capture producers submit frames for sealing and lets auditors read
// and verify the ledger over the daemon's HTTP API.
//
// # Sealing frames
//
// Producers authenticate with a bearer token carrying the ledger:seal scope
// (see 'windchill token'):
//
//	c, err := client.New("https://windchill.internal:8080",
//	    client.WithBearerToken(os.Getenv("WINDCHILL_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	entry, err := c.Seal(ctx, client.SealRequest{
//	    SceneID: "stage-4/take-12",
//	    Payload: frameBytes,
//	})
//
// A seal with an empty scene id fails with an *APIError whose StatusCode is
// 422; the ledger is not touched.
//
// # Auditing
//
// Verify asks the daemon to walk the whole chain. Entries pages through the
// ledger; All ranges over every entry:
//
//	for e, err := range c.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(e.SequenceID, e.MerkleRoot)
//	}
package client
