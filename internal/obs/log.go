package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var sharedLogger = sync.OnceValue(func() *log.Logger {
	return log.New(os.Stdout, "", 0)
})

// Logger is the process-wide JSON-line logger. Access logs, audit events and
// ledger error reporting all write through it, so the service emits a single
// stream on stdout.
func Logger() *log.Logger { return sharedLogger() }

// LogRequest marshals entry into one JSON line. Callers pass flat maps; keys
// like ts, method, path and request_id come from the logging middleware.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"dropped unserializable log entry"}`)
		return
	}
	Logger().Println(string(data))
}
