// Package httpclient はIDプロバイダーなど外部サービスとのHTTP通信を行うクライアントを提供する。
//
// トークンイントロスペクション（フォーム形式のPOST）とOpenID Connectの
// ディスカバリー（JSONのGET）で使用する。タイムアウトはクライアント側で必ず設定し、
// 呼び出し元のコンテキストのキャンセルにも従う。
package httpclient
