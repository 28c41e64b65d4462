// Package config provides configuration parsing for recompose.
//
// The configuration is stored in recompose.json (comments and trailing
// commas allowed) or recompose.yaml in the working directory.
//
// # Configuration File Structure
//
//	{
//	  "runtime": {
//	    "frameInterval": "16ms",
//	    "maxPassesPerWindow": 120,
//	    "window": "1s",
//	  },
//	  // 0 disables pooling
//	  "subcompose": {"reuseCapacity": 8},
//	  "log": {"level": "info", "format": "text"},
//	  "metrics": {"enabled": true, "namespace": "recompose"},
//	  "tracing": {"enabled": false},
//	  "inspector": {"addr": "localhost:7070"},
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Frame:", cfg.FrameInterval())
package config
