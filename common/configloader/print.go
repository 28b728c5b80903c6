package configloader

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// PrintConfig выводит конфиг в читаемом виде в stdout.
func PrintConfig(v interface{}) {
	FprintConfig(os.Stdout, v)
}

// FprintConfig выводит конфиг в w. Поля с тегом json:"-" (секреты) пропускаются.
func FprintConfig(w io.Writer, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "configloader: cannot print config: %v\n", err)
		return
	}
	fmt.Fprintln(w, "Loaded configuration:\n", string(b))
}
