// Copyright 2015 Comcast Cable Communications Management, LLC
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
//
// End Copyright

package core

// Note: AttributeCatalog itself is declared in dag.go, next to the
// impact-analysis code that is its only caller. No concrete backing
// implementation ships in this repository — the set of immutable
// attributes and which external functionalities require which paths
// is owned by whatever product catalog deploys this engine, not by
// the rule engine core. A caller wiring in a real catalog need only
// satisfy the two-method interface; dag.go's Impact treats a nil
// catalog as "no catalog available" rather than requiring a stub.
