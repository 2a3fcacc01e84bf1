package policy

import "encoding/json"

func jsonMarshal(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, out *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
