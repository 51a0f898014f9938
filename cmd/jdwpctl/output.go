package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// render formats data as a table, json or yaml.
func render(format string, data any) (string, error) {
	switch strings.ToLower(format) {
	case "json":
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b) + "\n", nil
	case "yaml":
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case "table", "":
		return table(data), nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

func table(data any) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 {
			return "No targets configured.\n"
		}
		t := v.Type().Elem()
		headers := make([]string, t.NumField())
		for i := range headers {
			headers[i] = strings.ToUpper(t.Field(i).Name)
		}
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for i := 0; i < v.Len(); i++ {
			row := v.Index(i)
			vals := make([]string, row.NumField())
			for j := range vals {
				vals[j] = fmt.Sprintf("%v", row.Field(j).Interface())
			}
			fmt.Fprintln(w, strings.Join(vals, "\t"))
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			fmt.Fprintf(w, "%s:\t%v\n", t.Field(i).Name, v.Field(i).Interface())
		}
	default:
		fmt.Fprintln(w, data)
	}

	w.Flush()
	return buf.String()
}
