/*
Package frame defines the line protocol spoken between the bridge and the backend process.

Every frame is a single line of UTF-8 text terminated by a newline.

The bridge sends requests as bare JSON objects:

	{"id":1,"method":"get_exams","params":{}}

The backend answers with a tag followed by a JSON object:

	RESPONSE:{"id":1,"result":[]}
	ERROR:{"id":1,"message":"Exam not found"}

A pipe-mode backend prints the single line READY once it is able to serve requests.
Anything else is a protocol error; callers are expected to log it and keep reading.
*/
package frame
