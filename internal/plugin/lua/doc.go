// Package lua runs plugins packaged as zip bundles of Lua scripts.
//
// A bundle is a .zip archive. Each .lua file in it is run in its own
// sandboxed state; the first one defining a global new_plugin function is
// the bundle's plugin. new_plugin returns the plugin table:
//
//	function new_plugin()
//	  return {
//	    info = { name = "Sample", version = "1.0.0", author = "me" },
//	    stages = { "NORMAL_LOAD", { stage = "POST_LOAD", active = true } },
//
//	    load_normal = function(self) return true end,
//	    unload = function(self) return true end,
//
//	    error_message = function(self) return self.err end,
//	    update_needed = false,
//	    download_url = "https://example.com/sample.zip",
//	  }
//	end
//
// Hooks (load_pre, load_normal, load_post, unload) are called with the
// plugin table and must return true on success. A missing hook succeeds.
// The remaining fields may be plain values or methods.
//
// The sandbox opens only the base, table, string and math libraries,
// removes the functions that load code from files or strings, and sends
// print output to the host's log.
package lua
