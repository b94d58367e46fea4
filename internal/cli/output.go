package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд: таблицы для людей, JSON для скриптов.
// Данные идут в stdout, статусные сообщения — в stderr, чтобы
// `vocata job list --json | jq` работал без фильтрации.
type Output struct {
	json bool
	out  io.Writer
	msg  io.Writer
}

// NewOutput создаёт Output. jsonMode переключает таблицы на JSON.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		json: jsonMode,
		out:  os.Stdout,
		msg:  os.Stderr,
	}
}

// Print выводит payload в активном режиме: rows таблицей или data JSON'ом.
func (o *Output) Print(headers []string, rows [][]string, data any) {
	if o.json {
		o.JSON(data)
		return
	}
	o.Table(headers, rows)
}

// Table печатает выровненную таблицу. Заголовки приводятся к верхнему
// регистру; пустой результат — одна строка заголовков.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.out, 4, 0, 3, ' ', 0)

	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(upper, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON печатает v с отступами.
func (o *Output) JSON(v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(o.msg, "marshal output:", err)
		return
	}
	fmt.Fprintln(o.out, string(body))
}

// Success печатает статусное сообщение в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.msg, msg)
}
