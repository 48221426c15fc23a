/*
Package config loads imageop settings from compiled-in defaults, an optional
YAML file, an optional .env file and IMAGEOP_* environment variables, in that
order of increasing precedence.

Example file:

	global:
	  log_level: INFO
	  log_format: text
	  metrics_port: 9108
	cache:
	  tile_width: 256
	  tile_height: 256
	  workers: 0            # 0 means one worker per CPU
	  interpolation: catmull-rom
	  retain_size: 256MB    # bitmaps kept after their last handle is released
	  disk_threshold: 64MB  # larger bitmaps live in mapped scratch files; 0 disables
	session:
	  scratch_root: /tmp/imageop
	  prefix: imageop-
	  lock_suffix: .lck
	  reclaim:
	    initial_delay: 1ms
	    max_delay: 1024ms
	    deadline: 10s
	monitoring:
	  metrics:
	    enabled: true
	    namespace: imageop

Sizes accept the forms understood by go-humanize ("64MB", "1 GiB").
Durations use Go duration syntax.
*/
package config
