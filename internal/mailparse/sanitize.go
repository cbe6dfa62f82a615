// Copyright (c) 2026 TempBox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mailparse

import "github.com/microcosm-cc/bluemonday"

// htmlPolicy strips scripts and active content while keeping the formatting
// tags email clients commonly emit. Package-level because policy construction
// is relatively expensive and the policy itself is safe for concurrent use.
var htmlPolicy = bluemonday.UGCPolicy()

// SanitizeHTML neutralizes active content in an HTML body before storage.
// The stored HTML is rendered inside user dashboards, so anything executable
// must be gone by the time it reaches the database.
func SanitizeHTML(html string) string {
	if html == "" {
		return ""
	}
	return htmlPolicy.Sanitize(html)
}
