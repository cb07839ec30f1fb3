package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type CIResult struct {
	Check   string   `json:"check"`
	OK      bool     `json:"ok"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes one JSON line to stdout for pipelines to parse.
func PrintCIResult(ok bool, check string, details []string, err error) {
	writeCIResult(os.Stdout, ok, check, details, err)
}

func writeCIResult(w io.Writer, ok bool, check string, details []string, err error) {
	res := CIResult{Check: check, OK: ok, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	b, mErr := json.Marshal(res)
	if mErr != nil {
		fmt.Fprintf(w, `{"check":%q,"ok":false,"error":%q}`+"\n", check, mErr.Error())
		return
	}
	fmt.Fprintln(w, string(b))
}
