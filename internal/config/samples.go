package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReadSampleLines returns lines [start, start+count) of the sample file,
// without line terminators. A short file yields fewer lines.
func ReadSampleLines(path string, start, count int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalid, "opening sample file %#q: %v", path, err)
	}
	defer f.Close()

	var lines []string

	scanner := bufio.NewScanner(f)
	for lineNum := 0; scanner.Scan(); lineNum++ {
		if lineNum < start {
			continue
		}
		if lineNum >= start+count {
			break
		}

		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading sample file %#q", path)
	}

	return lines, nil
}

// LoadSample fills SampleList from the sample file. Without a sample file
// an inline sample_list is cut down to the configured range instead.
func (c *Config) LoadSample() error {
	if c.SampleFileName != "" {
		lines, err := ReadSampleLines(c.SampleFileName, c.SampleStartIdx, c.SampleCount)
		if err != nil {
			return err
		}

		c.SampleList = lines
		return nil
	}

	start := min(c.SampleStartIdx, len(c.SampleList))
	end := min(c.SampleEnd(), len(c.SampleList))
	c.SampleList = c.SampleList[start:end]

	return nil
}

// SampleIDs parses SampleList into _id values.
func (c *Config) SampleIDs() ([]any, error) {
	return ParseIDs(c.SampleList, c.SampleIDType)
}

// ParseIDs converts sample lines to _id values of the given type.
// Integers become int64, which the server matches against any numeric _id.
func ParseIDs(lines []string, idType IDType) ([]any, error) {
	ids := make([]any, 0, len(lines))

	for i, line := range lines {
		id, err := parseID(line, idType)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalid, "sample line %d (%#q): %v", i, line, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func parseID(line string, idType IDType) (any, error) {
	switch idType {
	case IntID:
		return strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	case ObjectIDID:
		return primitive.ObjectIDFromHex(strings.TrimSpace(line))
	case StringID:
		return line, nil
	case AutoID:
		trimmed := strings.TrimSpace(line)
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, nil
		}
		if oid, err := primitive.ObjectIDFromHex(trimmed); err == nil {
			return oid, nil
		}
		return line, nil
	default:
		return nil, errors.Errorf("unknown id type %#q", idType)
	}
}
