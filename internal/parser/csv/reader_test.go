package csv

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"

	"tally/internal/config"
)

// drain copies every record out of r; Next reuses its buffers.
func drain(t *testing.T, r *Reader) [][]string {
	t.Helper()
	var out [][]string
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, append([]string(nil), rec...))
	}
}

func TestReader_Next(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		in            string
		opts          Options
		want          [][]string
		wantMalformed int64
	}{
		{
			name: "variable_width",
			in:   "1,2,3,4,THEFT\n1,2\n1,2,3,4,ARSON,extra\n",
			opts: Options{Comma: ',', LazyQuotes: true},
			want: [][]string{{"1", "2", "3", "4", "THEFT"}, {"1", "2"}, {"1", "2", "3", "4", "ARSON", "extra"}},
		},
		{
			name: "header_and_bom",
			in:   "\uFEFFid,a,b,c,type\n1,2,3,4,THEFT\n",
			opts: Options{Comma: ',', HasHeader: true},
			want: [][]string{{"1", "2", "3", "4", "THEFT"}},
		},
		{
			name: "bom_without_header",
			in:   "\uFEFFTHEFT;x\n",
			opts: Options{Comma: ';'},
			want: [][]string{{"THEFT", "x"}},
		},
		{
			name:          "bare_quote_strict_is_dropped",
			in:            "1,2,3,4,THEFT\n1,2,3,a\"b,ROBBERY\n1,2,3,4,ARSON\n",
			opts:          Options{Comma: ','},
			want:          [][]string{{"1", "2", "3", "4", "THEFT"}, {"1", "2", "3", "4", "ARSON"}},
			wantMalformed: 1,
		},
		{
			name: "bare_quote_lazy_is_kept",
			in:   "1,2,3,a\"b,ROBBERY\n",
			opts: Options{Comma: ',', LazyQuotes: true},
			want: [][]string{{"1", "2", "3", "a\"b", "ROBBERY"}},
		},
		{
			name: "trim_space",
			in:   " a , b \n",
			opts: Options{Comma: ',', TrimSpace: true},
			want: [][]string{{"a", "b"}},
		},
		{
			name:          "unclosed_quote_strict_drops_only_its_line",
			in:            "1,2,3,4,THEFT\n1,2,3,4,\"BAD\n1,2,3,4,ARSON\n1,2,3,4,ARSON\n1,2,3,4,THEFT\n",
			opts:          Options{Comma: ','},
			want:          [][]string{{"1", "2", "3", "4", "THEFT"}, {"1", "2", "3", "4", "ARSON"}, {"1", "2", "3", "4", "ARSON"}, {"1", "2", "3", "4", "THEFT"}},
			wantMalformed: 1,
		},
		{
			name: "unclosed_quote_lazy_stays_on_its_line",
			in:   "1,2,3,4,THEFT\n1,2,3,4,\"BAD\n1,2,3,4,ARSON\n",
			opts: Options{Comma: ',', LazyQuotes: true},
			want: [][]string{{"1", "2", "3", "4", "THEFT"}, {"1", "2", "3", "4", "BAD"}, {"1", "2", "3", "4", "ARSON"}},
		},
		{
			name: "quoted_fields",
			in:   "1,\"A, B\"\r\n2,\"say \"\"hi\"\"\"\n",
			opts: Options{Comma: ','},
			want: [][]string{{"1", "A, B"}, {"2", "say \"hi\""}},
		},
		{
			name: "blank_lines_and_crlf",
			in:   "a\r\n\r\n\nb",
			opts: Options{Comma: ','},
			want: [][]string{{"a"}, {"b"}},
		},
		{
			name: "multibyte_delimiter",
			in:   "a¦b¦\n",
			opts: Options{Comma: '¦'},
			want: [][]string{{"a", "b", ""}},
		},
		{
			name: "empty_input",
			in:   "",
			opts: Options{Comma: ','},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewReader(strings.NewReader(tt.in), tt.opts)
			got := drain(t, r)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("records = %q; want %q", got, tt.want)
			}
			if r.Malformed() != tt.wantMalformed {
				t.Fatalf("Malformed() = %d; want %d", r.Malformed(), tt.wantMalformed)
			}
			if r.Records() != int64(len(tt.want)) {
				t.Fatalf("Records() = %d; want %d", r.Records(), len(tt.want))
			}
		})
	}
}

func TestReader_LineLongerThanBuffer(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 3*readBufSize+7)
	r := NewReader(strings.NewReader("a,"+long+"\nb,THEFT\n"), Options{Comma: ','})
	got := drain(t, r)
	if len(got) != 2 || got[0][1] != long || got[1][1] != "THEFT" {
		t.Fatalf("got %d records; want the long line intact and then THEFT", len(got))
	}
}

func TestReader_IOErrorSurfaces(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk gone")
	r := NewReader(iotest.ErrReader(boom), Options{Comma: ','})
	if _, err := r.Next(); !errors.Is(err, boom) {
		t.Fatalf("Next() error = %v; want %v", err, boom)
	}
}

func TestOptionsFrom(t *testing.T) {
	t.Parallel()

	got := OptionsFrom(config.Options{})
	want := Options{Comma: ',', LazyQuotes: true}
	if got != want {
		t.Fatalf("defaults = %+v; want %+v", got, want)
	}

	got = OptionsFrom(config.Options{"comma": "\t", "has_header": true, "lazy_quotes": false, "trim_space": true})
	want = Options{Comma: '\t', HasHeader: true, TrimSpace: true}
	if got != want {
		t.Fatalf("explicit = %+v; want %+v", got, want)
	}
}
