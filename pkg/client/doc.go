// Package client is the Go SDK for the digaas HTTP API.
//
// A digaas server watches a nameserver until a DNS change becomes visible
// and records how long that took. Submit an observation right after making
// the change, then poll for the outcome:
//
//	c, err := client.New("http://localhost:8123", client.WithToken(apiToken))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	o, err := c.SubmitObserver(ctx, client.ObserverRequest{
//	    TargetName: "example.com.",
//	    Nameserver: "192.0.2.53",
//	    Type:       "ZONE_CREATE",
//	    StartTime:  client.At(changedAt),
//	    Timeout:    client.Seconds(2 * time.Minute),
//	    Interval:   client.Seconds(time.Second),
//	})
//	o, err = c.WaitObserver(ctx, o.ID, time.Second)
//	if o.Status == client.StatusComplete {
//	    fmt.Println("propagated after", o.Duration.Duration())
//	}
//
// # Statistics
//
// Stats are computed in the background over every observer started in a
// time range:
//
//	st, _ := c.CreateStats(ctx, from, to)
//	st, _ = c.WaitStats(ctx, st.ID, time.Second)
//	sums, _ := c.GetSummaries(ctx, st.ID)
//	png, _, _ := c.GetPlot(ctx, st.ID, client.PlotPropagationByType)
//
// Errors from the server are *APIError values; use errors.Is with
// ErrNotFound, ErrNotReady, ErrUnauthorized or ErrUnavailable to branch on
// them.
package client
