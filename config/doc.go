// Package config loads and manages PJStream configuration: static JSON
// files with layered overrides, environment variables, YAML priority rule
// sets, and runtime synchronization through the NATS key-value store.
//
// # Loading
//
// A Loader starts from built-in defaults and merges JSON layers on top,
// later layers winning key by key. Nested objects merge recursively, so an
// override file only needs the keys it changes:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/production.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Given base.json with {"platform": {"id": "dev", "environment": "dev"}}
// and production.json with {"platform": {"id": "prod"}}, the loaded
// platform keeps environment "dev" under id "prod".
//
// After the layers, PJSTREAM_* environment variables apply as the final
// override, which keeps deployment images generic:
//
//	export PJSTREAM_PLATFORM_ID="prod-cluster-01"
//	export PJSTREAM_NATS_URLS="nats://server1:4222,nats://server2:4222"
//	export PJSTREAM_STORAGE_MODE="hybrid"
//
// # Priority Rules
//
// Priority rule sets live in YAML files so operators can tune streaming
// order without rebuilding. Documents are validated against an embedded
// JSON schema before use:
//
//	rules, err := config.LoadRulesFile("config/rules.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.Streaming.Analyzer.Rules = rules
//
// # Runtime Updates
//
// A Manager keeps the running configuration in sync with the NATS KV
// bucket shared by all instances. It watches the bucket, applies remote
// changes section by section, and notifies subscribers:
//
//	cm, err := config.NewConfigManager(cfg, natsClient, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cm.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Stop(5 * time.Second)
//
//	updates := cm.OnChange("streaming")
//	for update := range updates {
//		log.Printf("Config section changed: %s", update.Path)
//	}
//
// Programmatic edits go through UpdateSection, which applies the
// mutation with compare-and-swap semantics so concurrent writers on
// other instances are never overwritten:
//
//	err := cm.UpdateSection(ctx, "streaming", func(section map[string]any) error {
//		section["sweep_interval"] = int64(time.Minute)
//		return nil
//	})
//
// # Concurrent Access
//
// The Manager hands out configuration through a SafeConfig, which guards
// reads with a lock and returns deep clones. Callers mutate their clone
// and swap it back:
//
//	safeConfig := cm.GetConfig()
//
//	cfg := safeConfig.Get()
//	cfg.Streaming.Delivery.FramesPerSecond = 30
//	if err := safeConfig.Update(cfg); err != nil {
//		log.Fatal(err)
//	}
//	cm.PushToKV(ctx)
//
// # File Safety
//
// Every file read or written by this package passes the same checks: the
// path must not traverse outside its directory root, the target must be a
// regular file, the size is capped at 10MB, and parsed JSON may nest at
// most 100 levels deep. Oversized or hostile configuration input fails
// loading instead of exhausting the process.
package config
