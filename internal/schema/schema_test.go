package schema

import (
	"errors"
	"testing"
)

func TestValidatePost(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name: "nested envelope",
			payload: `{"post":{"current":{
				"id":"65a1b2c3d4e5f6a7b8c9d0e1",
				"title":"Hello",
				"url":"https://blog.example/hello/",
				"tags":[{"name":"#travel","slug":"hash-travel"}]
			}}}`,
		},
		{
			name: "flat post object",
			payload: `{
				"id":"65a1b2c3d4e5f6a7b8c9d0e1",
				"title":"Hello",
				"url":"https://blog.example/hello/",
				"custom_excerpt":"A short one."
			}`,
		},
		{
			name:    "missing title",
			payload: `{"id":"65a1b2c3d4e5f6a7b8c9d0e1","url":"https://blog.example/x/"}`,
			wantErr: true,
		},
		{
			name:    "nested without current",
			payload: `{"post":{}}`,
			wantErr: true,
		},
		{
			name:    "tag without name",
			payload: `{"id":"a","title":"t","url":"https://e/","tags":[{"slug":"x"}]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `{"id":`,
			wantErr: true,
		},
		{
			name:    "wrong type for tags",
			payload: `{"id":"a","title":"t","url":"https://e/","tags":"travel"}`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePost([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ValidatePost() = nil, want error")
				}
				if !errors.Is(err, ErrSchema) {
					t.Fatalf("error %v does not wrap ErrSchema", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidatePost() = %v, want nil", err)
			}
		})
	}
}
