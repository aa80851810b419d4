// Package trialmatch embeds the clinical trial matcher in a Go program: load
// a trial corpus, then rank trials for free-text patient descriptions without
// running the HTTP server.
//
// Matching uses sentence embeddings when a backend is available and falls back
// to keyword matching otherwise, exactly like the service.
//
//	client, _ := trialmatch.New(ctx,
//	    trialmatch.WithCorpus("data/all_conditions_trials.csv"),
//	    trialmatch.WithONNX("models/model.onnx", "models/tokenizer.json"),
//	    trialmatch.WithBadgerCache("data/embcache"),
//	)
//	defer client.Close()
//
//	resp, _ := client.Match(ctx, "55 year old with chest pain and high cholesterol",
//	    trialmatch.TopK(10),
//	)
//	for _, m := range resp.Matches {
//	    fmt.Println(m.ID, m.Similarity)
//	}
//
// Without a backend option the model-free hashing embedder is used.
package trialmatch
