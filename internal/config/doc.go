// Package config provides the QRMI configuration model.
//
// A configuration file is YAML with ${VAR} and ${VAR:-default}
// substitution applied before parsing ($$ escapes a literal dollar):
//
//	logging:
//	  level: info
//	  format: json
//	token_cache:
//	  type: redis
//	  redis_address: redis://localhost:6379/0
//	resources:
//	  - name: FRESNEL
//	    kind: pasqal-cloud
//	    accessible_when: device.data[0].availability == "ACTIVE"
//	  - name: simulator
//	    kind: ionq-cloud
//	    backend: simulator
//	    retry:
//	      max_retries: 3
//
// Load reads and validates a file; Watcher reloads it when it changes.
package config
